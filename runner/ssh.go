package runner

import (
	"strconv"
	"strings"

	"tangled.sh/tangled.sh/deployer/config"
)

// SSHPrefix builds the local ssh invocation that reaches the environment's
// bound host, up to and including the destination.
func SSHPrefix(ssh string, env *config.Environment) string {
	if ssh == "" {
		ssh = "ssh"
	}

	fields := []string{ssh}
	if opt := strings.TrimSpace(env.IdentityFileOption()); opt != "" {
		fields = append(fields, opt)
	}
	if env.Bool("general.ssh_needs_tty", false) {
		fields = append(fields, "-t")
	}
	fields = append(fields,
		"-p", strconv.Itoa(env.HostPort()),
		"-q", "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null",
	)
	if opt := strings.TrimSpace(env.ConnectTimeoutOption()); opt != "" {
		fields = append(fields, opt)
	}

	dest := env.HostName()
	if user := env.Deployment("user", ""); user != "" {
		dest = user + "@" + dest
	}
	fields = append(fields, dest)

	return strings.Join(fields, " ")
}

// ReleaseSuffix is the path below deployment.to that remote commands of a
// task change into: "/<releases dir>/<release id>" when releases are enabled
// and the task does not manage its own release path.
func ReleaseSuffix(env *config.Environment, releaseAware bool) string {
	if !env.ReleasesEnabled() || releaseAware {
		return ""
	}
	return "/" + env.ReleasesDirectory() + "/" + env.ReleaseID()
}

// RemoteBody is the shell text executed on the remote host. Double quotes
// are escaped for the `sh -c "..."` wrapper; nothing else is. The command
// is opaque text, so callers interpolating untrusted values into it are
// open to shell injection on the remote host.
func RemoteBody(env *config.Environment, command string, cdFirst, releaseAware bool) string {
	body := strings.ReplaceAll(command, `"`, `\"`)
	if cdFirst {
		dir := strings.TrimRight(env.DeployTo(), "/") + ReleaseSuffix(env, releaseAware)
		body = "cd " + dir + " && " + body
	}
	return body
}

// RemoteCommand is the full local command line for a remote invocation.
func RemoteCommand(ssh string, env *config.Environment, command string, cdFirst, releaseAware bool) string {
	return SSHPrefix(ssh, env) + ` "sh -c \"` + RemoteBody(env, command, cdFirst, releaseAware) + `\""`
}

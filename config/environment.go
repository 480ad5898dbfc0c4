package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"gopkg.in/yaml.v3"
	"tangled.sh/tangled.sh/deployer/models"
)

const (
	environmentsDir = "environments"
	defaultSSHPort  = 22
)

var (
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrInvalidEnvironment  = errors.New("invalid environment name")
)

// Environment is the deployment configuration of a single environment,
// read from <config dir>/environments/<name>.yml.
//
// Values are looked up with dotted key paths ("deployment.to",
// "extras.vcs.enabled"); missing keys always resolve to the supplied
// default. An Environment is never modified once parsed: the With*
// methods return copies.
type Environment struct {
	name      string
	tree      map[string]any
	steps     map[string][]Step
	params    map[string]any
	host      string
	releaseID string
}

type environmentFile struct {
	Tasks      map[string][]Step `yaml:"tasks"`
	Parameters map[string]any    `yaml:"parameters"`
}

func LoadEnvironment(dir, name string) (*Environment, error) {
	path, err := EnvironmentPath(dir, name)
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, name)
		}
		return nil, fmt.Errorf("reading environment %s: %w", name, err)
	}

	return ParseEnvironment(name, contents)
}

// EnvironmentPath resolves the file of an environment, never leaving dir.
func EnvironmentPath(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, name)
	}
	return securejoin.SecureJoin(dir, filepath.Join(environmentsDir, name+".yml"))
}

func ParseEnvironment(name string, contents []byte) (*Environment, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(contents, &tree); err != nil {
		return nil, fmt.Errorf("parsing environment %s: %w", name, err)
	}

	var file environmentFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("parsing tasks of environment %s: %w", name, err)
	}

	for section := range file.Tasks {
		if _, err := models.ParseStage(section); err != nil {
			return nil, fmt.Errorf("environment %s: tasks: %w", name, err)
		}
	}

	return &Environment{
		name:   name,
		tree:   tree,
		steps:  file.Tasks,
		params: file.Parameters,
	}, nil
}

func (e *Environment) Name() string {
	return e.name
}

// Get walks the dotted path through the configuration tree.
func (e *Environment) Get(path string, def any) any {
	var cur any = e.tree
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return def
		}
	}
	return cur
}

func (e *Environment) Has(path string) bool {
	return e.Get(path, nil) != nil
}

func (e *Environment) String(path, def string) string {
	return toString(e.Get(path, nil), def)
}

func (e *Environment) Bool(path string, def bool) bool {
	return toBool(e.Get(path, nil), def)
}

func (e *Environment) Int(path string, def int) int {
	return toInt(e.Get(path, nil), def)
}

// Strings returns a list value; a scalar is treated as a one element list.
func (e *Environment) Strings(path string) []string {
	switch v := e.Get(path, nil).(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case map[string]any:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

func (e *Environment) Deployment(key, def string) string {
	return e.String("deployment."+key, def)
}

func (e *Environment) DeployTo() string {
	return e.Deployment("to", "")
}

// Hosts lists the target hosts, from deployment.hosts or deployment.host.
func (e *Environment) Hosts() []string {
	if hosts := e.Strings("deployment.hosts"); len(hosts) > 0 {
		return hosts
	}
	if host := e.Deployment("host", ""); host != "" {
		return []string{host}
	}
	return nil
}

// Host is the host this environment is bound to, defaulting to the first
// configured host. It may carry a ":port" suffix.
func (e *Environment) Host() string {
	if e.host != "" {
		return e.host
	}
	if hosts := e.Hosts(); len(hosts) > 0 {
		return hosts[0]
	}
	return ""
}

func (e *Environment) HostName() string {
	host, _, found := strings.Cut(e.Host(), ":")
	if found {
		return host
	}
	return e.Host()
}

// HostPort prefers a port given on the host entry over deployment.port.
func (e *Environment) HostPort() int {
	if _, port, found := strings.Cut(e.Host(), ":"); found {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
	}
	return e.Int("deployment.port", defaultSSHPort)
}

func (e *Environment) IdentityFile() string {
	return e.Deployment("identity-file", "")
}

// IdentityFileOption is the ssh identity option with a trailing space, or
// empty when no identity file is configured.
func (e *Environment) IdentityFileOption() string {
	if f := e.IdentityFile(); f != "" {
		return "-i " + f + " "
	}
	return ""
}

// ConnectTimeoutOption is the ssh connect timeout option with a trailing
// space, or empty when deployment.timeout is not set.
func (e *Environment) ConnectTimeoutOption() string {
	if t := e.Int("deployment.timeout", 0); t > 0 {
		return fmt.Sprintf("-o ConnectTimeout=%d ", t)
	}
	return ""
}

func (e *Environment) ReleasesEnabled() bool {
	return e.Bool("release.enabled", false)
}

func (e *Environment) ReleasesDirectory() string {
	return e.String("release.directory", "releases")
}

func (e *Environment) ReleaseID() string {
	return e.releaseID
}

// Steps returns the configured tasks of a stage, in order.
func (e *Environment) Steps(stage models.Stage) []Step {
	steps := e.steps[stage.Section()]
	if steps == nil && stage == models.StageDeploy {
		steps = e.steps[models.StageDeploy.String()]
	}
	return append([]Step(nil), steps...)
}

// Parameter looks up the configuration level parameter layer.
func (e *Environment) Parameter(name string, def any) any {
	if v, ok := e.params[name]; ok && v != nil {
		return v
	}
	return def
}

func (e *Environment) WithHost(host string) *Environment {
	c := *e
	c.host = host
	return &c
}

func (e *Environment) WithReleaseID(id string) *Environment {
	c := *e
	c.releaseID = id
	return &c
}

// WithParameters overlays params on the configuration level parameters.
func (e *Environment) WithParameters(params map[string]any) *Environment {
	c := *e
	c.params = make(map[string]any, len(e.params)+len(params))
	maps.Copy(c.params, e.params)
	maps.Copy(c.params, params)
	return &c
}

func toString(v any, def string) string {
	switch s := v.(type) {
	case nil:
		return def
	case string:
		return s
	case map[string]any, []any:
		return def
	default:
		return fmt.Sprint(s)
	}
}

func toBool(v any, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0", "":
			return false
		}
	}
	return def
}

func toInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// ToString, ToBool and ToInt coerce loosely typed parameter values.
func ToString(v any, def string) string { return toString(v, def) }

func ToBool(v any, def bool) bool { return toBool(v, def) }

func ToInt(v any, def int) int { return toInt(v, def) }

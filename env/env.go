package env

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/agentuity/go-resilience/logger"
	"github.com/agentuity/go-resilience/mask"
	"github.com/agentuity/go-resilience/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// EnvLine is one KEY=VALUE pair from an environment file.
type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns its entries. A missing
// file yields an empty list, not an error.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", filename)
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits one KEY=VALUE line, dequoting the value.
func ProcessEnvLine(line string) EnvLine {
	tok := strings.SplitN(line, "=", 2)
	if len(tok) < 2 {
		return EnvLine{Key: line}
	}
	return EnvLine{Key: tok[0], Val: dequote(tok[1])}
}

// interpolate expands ${VAR} and ${VAR:-default} references against vars and
// ${env:VAR} against the process environment. References that cannot be
// resolved are preserved verbatim.
func interpolate(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var out strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start
		out.WriteString(rest[:start])
		ref := rest[start : end+1]
		name, def, hasDefault := strings.Cut(rest[start+2:end], ":-")
		var val string
		var ok bool
		if envName, fromOS := strings.CutPrefix(name, "env:"); fromOS {
			val = os.Getenv(envName)
			ok = val != ""
		} else if name != "" {
			val = vars[name]
			ok = val != ""
		}
		switch {
		case ok:
			out.WriteString(val)
		case hasDefault && def != "":
			out.WriteString(def)
		default:
			out.WriteString(ref)
		}
		rest = rest[end+1:]
	}
	out.WriteString(rest)
	return out.String()
}

// ParseEnvBuffer parses environment file content. References are resolved in
// two passes so a value may refer to a variable defined later in the file.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	if len(buf) == 0 {
		return envs, nil
	}
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// LoadEnvFile loads variables from an environment file into the process
// environment. Values already set in the environment win.
func LoadEnvFile(filename string) error {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if _, ok := os.LookupEnv(env.Key); ok {
			continue
		}
		if err := os.Setenv(env.Key, env.Val); err != nil {
			return errors.Wrapf(err, "failed to set %s", env.Key)
		}
	}
	return nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the log level from the --log-level flag, then the
// RESILIENCE_LOG_LEVEL environment variable, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", "RESILIENCE_LOG_LEVEL", "info"))
}

// NewLogger returns a console logger at the level LogLevel resolves from the
// cobra.Command.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}

// NewTelemetry returns a logger that also exports over OTLP, plus a shutdown
// function that flushes it. The cobra flags it expects are:
//
// --no-telemetry (boolean): if set, telemetry will be disabled
//
// --otlp-url (string): the url of the otlp server
//
// --otlp-shared-secret (string): the bearer credential for the otlp server
//
// Without an OTLP URL the plain console logger is returned.
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (logger.Logger, telemetry.ShutdownFunc, error) {
	log := NewLogger(cmd)
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return log, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "RESILIENCE_OTLP_URL", "")
	if otlpURL == "" {
		return log, func() {}, nil
	}
	secret := mask.Secret(FlagOrEnv(cmd, "otlp-shared-secret", "RESILIENCE_OTLP_SHARED_SECRET", ""))
	otelLogger, shutdown, err := telemetry.New(ctx, otlpURL, secret.Text(), serviceName)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	if secret != "" {
		log.Trace("using otlp credential %s", secret)
	}
	return log.Stack(otelLogger), shutdown, nil
}

package privacy

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/triage-ai/cli-analytics/internal/model"
)

var (
	propFlagNames = []string{"--region", "--verbose", "--format", "--output", "-n"}
	propCommands  = []string{"init", "build", "deploy", "status", "logs"}
	propPaths     = []string{"/home/%s/.ssh/id_rsa", `C:\Users\%s\AppData`, "./%s/config.yaml", "~/%s/notes"}
)

// persistedText is every string field of a sanitized event that reaches storage.
func persistedText(ev *model.SanitizedEvent) string {
	parts := []string{ev.ToolName, ev.ToolVersion, ev.ActorHash, ev.MachineHash, ev.SessionHintHash, ev.ErrorType, ev.ID}
	parts = append(parts, ev.CommandPath...)
	parts = append(parts, ev.Flags...)
	return strings.Join(parts, "\n")
}

func TestProperty_FlagValuesNeverPersisted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no flag value survives sanitization", prop.ForAll(
		func(values []string, nameIdx, cmdIdx int) bool {
			s := newTestSanitizer()
			raw := validRaw()
			raw.CommandPath = []string{"mycli", propCommands[cmdIdx]}
			raw.Flags = nil
			secrets := make([]string, 0, len(values))
			for i, v := range values {
				secret := "zq" + v + "qz"
				secrets = append(secrets, secret)
				name := propFlagNames[(nameIdx+i)%len(propFlagNames)]
				sep := "="
				if i%2 == 1 {
					sep = ":"
				}
				raw.Flags = append(raw.Flags, name+sep+secret)
			}
			ev, err := s.Sanitize("tenant_1", raw)
			if err != nil {
				return false
			}
			text := persistedText(ev)
			for _, secret := range secrets {
				if strings.Contains(text, secret) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.NumString()),
		gen.IntRange(0, len(propFlagNames)-1),
		gen.IntRange(0, len(propCommands)-1),
	))

	properties.TestingRun(t)
}

func TestProperty_IdentifiersEmailsAndPathsNeverPersisted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no raw identifier, email or path separator survives", prop.ForAll(
		func(user, host string, pathIdx int) bool {
			s := newTestSanitizer()
			raw := validRaw()
			actor := "u" + user + "@corp.example.com"
			machine := "host-" + host + "-zz"
			raw.ActorID = actor
			raw.MachineID = machine
			path := strings.Replace(propPaths[pathIdx], "%s", "u"+user, 1)
			raw.ErrorType = "AccessDenied for " + actor + " reading " + path + " on " + machine + "/tmp"

			ev, err := s.Sanitize("tenant_1", raw)
			if err != nil {
				return false
			}
			text := persistedText(ev)
			if strings.Contains(text, actor) || strings.Contains(text, machine) {
				return false
			}
			if emailRe.MatchString(text) {
				return false
			}
			return !strings.ContainsAny(ev.ErrorType, `/\`)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(0, len(propPaths)-1),
	))

	properties.TestingRun(t)
}

func TestProperty_LongRunsNeverPersistedInErrorText(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no letters-only run of opaque length survives", prop.ForAll(
		func(letters []rune, prefix string) bool {
			s := newTestSanitizer()
			raw := validRaw()
			secret := "zq" + string(letters)
			raw.ErrorType = prefix + " rejected " + secret + " at login"

			ev, err := s.Sanitize("tenant_1", raw)
			if err != nil {
				return false
			}
			return !strings.Contains(persistedText(ev), secret)
		},
		gen.SliceOfN(22, gen.AlphaChar()),
		gen.OneConstOf("AuthError:", "denied:", "KeyError"),
	))

	properties.TestingRun(t)
}

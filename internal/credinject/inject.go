package credinject

import (
	"fmt"
	"sort"

	"github.com/reflow-sh/reflow/internal/script"
	"github.com/reflow-sh/reflow/pkg/schema"
)

// InjectCredentials rewrites the script so every operation instance with
// nonzero requirements carries a resolved `credentials` object parameter.
// Values are filled from systemCredentials first, then overwritten by any
// userCredentials entry scoped to the instance (user values always win).
//
// Missing values are accumulated on the report rather than thrown, so the
// caller always receives a structured result. An empty requirement input is
// a no-op success. The script is force-reparsed before returning, so the
// caller sees the refreshed instance set.
func (inj *Injector) InjectCredentials(
	fs *script.FlowScript,
	requirements []schema.CredentialRequirement,
	userCredentials []schema.UserCredential,
	systemCredentials map[schema.CredentialType]string,
) (*schema.InjectionReport, error) {
	report := &schema.InjectionReport{}
	if len(requirements) == 0 {
		return report, nil
	}

	userByOp := make(map[int]map[schema.CredentialType]string)
	for _, uc := range userCredentials {
		if userByOp[uc.OpID] == nil {
			userByOp[uc.OpID] = make(map[schema.CredentialType]string)
		}
		userByOp[uc.OpID][uc.Type] = uc.Value
	}

	type target struct {
		inst     *schema.OperationInstance
		resolved map[schema.CredentialType]string
	}
	var targets []target

	for _, req := range requirements {
		inst := fs.Instance(req.OpID)
		if inst == nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("operation %s#%d: no instance for requirement", req.OpType, req.OpID))
			continue
		}
		resolved := make(map[schema.CredentialType]string, len(req.Required))
		for _, credType := range req.Required {
			value, source := "", ""
			if v, ok := systemCredentials[credType]; ok {
				value, source = v, "system"
			}
			if v, ok := userByOp[req.OpID][credType]; ok {
				value, source = v, "user"
			}
			if value == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("operation %s#%d: no value for required credential %s",
						req.OpType, req.OpID, credType))
				continue
			}
			resolved[credType] = value
			report.Records = append(report.Records, schema.InjectedCredentialRecord{
				OpID:   req.OpID,
				OpType: req.OpType,
				Type:   credType,
				Masked: Mask(value),
				Source: source,
			})
		}
		if len(resolved) > 0 {
			targets = append(targets, target{inst: inst, resolved: resolved})
		}
	}

	if len(targets) == 0 {
		return report, nil
	}

	// Line-preserving rewrite: replace instances in ascending original start
	// order, tracking the running line delta. Each instance's recorded span
	// is shifted by the delta accumulated from earlier replacements, so
	// later instances are edited at their current location, never their
	// stale one.
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].inst.Span.StartLine < targets[j].inst.Span.StartLine
	})

	delta := 0
	for _, t := range targets {
		sp := t.inst.Span
		sp.StartLine += delta
		sp.EndLine += delta
		text := renderInstantiation(t.inst, t.resolved)
		delta += fs.ReplaceSpan(sp, text)
	}

	if err := fs.Reparse(); err != nil {
		return report, schema.NewError(schema.ErrCodeRewrite,
			"rewritten source failed to parse").WithCause(err)
	}
	return report, nil
}

// Mask returns the display form of a secret: secrets of length <= 8 mask
// entirely; longer secrets keep their first and last 4 characters with the
// interior asterisked. Total length is preserved.
func Mask(secret string) string {
	n := len(secret)
	if n <= 8 {
		return repeat('*', n)
	}
	return secret[:4] + repeat('*', n-8) + secret[n-4:]
}

func repeat(ch byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ch
	}
	return string(b)
}

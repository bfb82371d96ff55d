package script

import (
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// EntryMethod is the flow's single entry point.
const EntryMethod = "handle"

// FlowBaseClass is the trigger-typed base every flow class extends.
const FlowBaseClass = "Flow"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerKind extracts the literal trigger-type tag from the flow class's
// declared supertype parameter. Schedule-type triggers carry the embedded
// cron expression, which is validated before being returned.
func (fs *FlowScript) TriggerKind() (schema.TriggerInfo, error) {
	cls := fs.module.Class()
	if cls == nil {
		return schema.TriggerInfo{}, schema.NewError(schema.ErrCodeValidation, "flow script declares no class")
	}
	if cls.SuperTypeArg == nil {
		return schema.TriggerInfo{}, schema.NewErrorf(schema.ErrCodeValidation,
			"class %s declares no trigger type parameter", cls.Name)
	}

	switch arg := cls.SuperTypeArg.(type) {
	case *StringLit:
		info := schema.TriggerInfo{Tag: arg.Value}
		if strings.HasPrefix(arg.Value, "schedule/") {
			return schema.TriggerInfo{}, schema.NewErrorf(schema.ErrCodeValidation,
				"schedule trigger %q requires a structured type with a cron expression", arg.Value)
		}
		return info, nil

	case *ObjectLit:
		var info schema.TriggerInfo
		for _, prop := range arg.Props {
			lit, ok := prop.Value.(*StringLit)
			if !ok {
				continue
			}
			switch prop.Key {
			case "type":
				info.Tag = lit.Value
			case "cron":
				info.Cron = lit.Value
			}
		}
		if info.Tag == "" {
			return schema.TriggerInfo{}, schema.NewError(schema.ErrCodeValidation,
				"structured trigger type is missing its tag")
		}
		if info.Cron != "" {
			if _, err := cronParser.Parse(info.Cron); err != nil {
				return schema.TriggerInfo{}, schema.NewErrorf(schema.ErrCodeValidation,
					"invalid cron expression %q: %s", info.Cron, err.Error()).WithCause(err)
			}
		}
		return info, nil

	default:
		return schema.TriggerInfo{}, schema.NewError(schema.ErrCodeValidation,
			"unsupported trigger type parameter shape")
	}
}

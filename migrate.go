package eventfold

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Transform upgrades event data from one schema version to the next. Transforms
// must be pure: same input data, same output data, no side effects.
type Transform func(data Data) (Data, error)

// Migrations holds the ordered upgrade pipeline per command. The target version
// for a command is len(transforms)+1 so a command with no registered transforms
// has target version 1 and its events are never touched.
type Migrations struct {
	transforms map[string][]Transform
}

func NewMigrations() *Migrations {
	return &Migrations{
		transforms: make(map[string][]Transform),
	}
}

// Add registers transforms for cmd in upgrade order. Calling Add again for the
// same cmd appends to the existing pipeline.
func (m *Migrations) Add(cmd string, transforms ...Transform) {
	m.transforms[cmd] = append(m.transforms[cmd], transforms...)
}

// TargetVersion returns the schema version events of cmd are upgraded to.
func (m *Migrations) TargetVersion(cmd string) int {
	return len(m.transforms[cmd]) + 1
}

// Apply upgrades data authored at the given version up to the target version
// for cmd and returns the upgraded data and the version it now sits at. Data
// already at or above the target version is returned unchanged, as is data for
// a cmd with no registered transforms.
func (m *Migrations) Apply(cmd string, data Data, version int) (Data, int, error) {
	if version < 1 {
		version = 1
	}

	target := m.TargetVersion(cmd)
	if version >= target {
		return data, version, nil
	}

	pipeline := m.transforms[cmd]
	for v := version; v < target; v++ {
		upgraded, err := pipeline[v-1](data)
		if err != nil {
			return nil, v, errors.Wrap(err, "migration transform failed", j.MKV{
				"cmd":          cmd,
				"from_version": v,
				"to_version":   v + 1,
			})
		}

		data = upgraded
	}

	return data, target, nil
}

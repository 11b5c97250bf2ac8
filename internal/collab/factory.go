package collab

import (
	"fmt"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/stage"
)

// FromConfig builds the collaborators described by a validated configuration.
// The returned Deps has no Recorder; persistence is chosen by the caller.
func FromConfig(cfg *config.SessionConfig) (stage.Deps, error) {
	roster := NewRoster()
	for id, actor := range cfg.Actors {
		switch actor.Generator.Kind {
		case config.GeneratorScripted:
			roster.Add(id, NewScripted(actor.Generator.Lines))
		case config.GeneratorCommand:
			roster.Add(id, NewCommandActor(actor.Generator.Command))
		default:
			return stage.Deps{}, config.NewConfigError("actors."+id+".generator", "invalid kind: %s", actor.Generator.Kind)
		}
	}

	deps := stage.Deps{Actors: roster}

	if cfg.Director != nil {
		switch cfg.Director.Kind {
		case config.DirectorCommand:
			deps.Director = NewCommandDirector(cfg.Director.Command)
		case "", config.DirectorNone:
		default:
			return stage.Deps{}, fmt.Errorf("unsupported director kind: %s", cfg.Director.Kind)
		}
	}

	if len(cfg.World.Bible) > 0 {
		deps.Knowledge = NewStaticWorld(cfg.World.Bible)
	}
	return deps, nil
}

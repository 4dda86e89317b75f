package cli

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xgpg/gpg"
	"github.com/effective-security/xgpg/pipeline"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

// RunCmd runs steps from a job file
type RunCmd struct {
	Job string `kong:"arg" required:"" type:"existingfile" help:"YAML job file with a list of steps"`
}

// StepResult is the outcome of a job step
type StepResult struct {
	Step      string `json:"step"`
	Operation string `json:"operation"`
	Result    any    `json:"result"`
}

// job is the job file, either a list of steps or a document with steps
type job struct {
	Steps []map[string]any `yaml:"steps"`
}

// Run the command
func (a *RunCmd) Run(ctx *Cli) error {
	steps, err := loadJob(a.Job)
	if err != nil {
		return err
	}
	p, err := ctx.Pipelines()
	if err != nil {
		return err
	}

	results := make([]StepResult, 0, len(steps))
	for i, s := range steps {
		logger.KV(xlog.INFO, "job", a.Job, "step", s.Name(), "operation", s.Operation)

		res, err := p.RunStep(ctx.Context(), s)
		if err != nil {
			// results of completed steps are still reported
			ctx.WriteJSON(results)
			return errors.WithMessagef(err, "step %d %q failed", i+1, s.Name())
		}
		results = append(results, StepResult{
			Step:      s.Name(),
			Operation: s.Operation,
			Result:    res,
		})
	}
	ctx.WriteJSON(results)
	return nil
}

// loadJob parses all steps before any of them runs
func loadJob(file string) ([]*pipeline.Step, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var j job
	var list []map[string]any
	if err = yaml.Unmarshal(raw, &list); err != nil {
		if err2 := yaml.Unmarshal(raw, &j); err2 != nil {
			return nil, errors.Mark(
				errors.WithMessagef(err2, "failed to decode job: %s", file),
				gpg.ErrInvalidConfiguration)
		}
		list = j.Steps
	}
	if len(list) == 0 {
		return nil, gpg.InvalidConfigurationf("no steps in job: %s", file)
	}

	steps := make([]*pipeline.Step, 0, len(list))
	for i, bag := range list {
		s, err := pipeline.ParseStep(bag)
		if err != nil {
			return nil, errors.WithMessagef(err, "step %d", i+1)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

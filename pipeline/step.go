package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/xgpg/gpg"
)

// Step operations
const (
	StepImport   = "import"
	StepGenerate = "generate"
	StepEncrypt  = "encrypt"
	StepDecrypt  = "decrypt"
)

// Step is a pipeline operation described by a parameter bag,
// as found in job files
type Step struct {
	// ID is an optional step name used in logs and errors
	ID        string
	Operation string
	Params    map[string]any
}

// ParseStep extracts the id and operation keys from bag,
// the remaining keys are the operation parameters
func ParseStep(bag map[string]any) (*Step, error) {
	params := make(map[string]any, len(bag))
	for k, v := range bag {
		params[k] = v
	}

	op, _ := params["operation"].(string)
	delete(params, "operation")
	id := ""
	if v, ok := params["id"]; ok {
		id = fmt.Sprint(v)
		delete(params, "id")
	}

	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case StepImport, StepGenerate, StepEncrypt, StepDecrypt:
	case "":
		return nil, gpg.InvalidConfigurationf("step operation is required")
	default:
		return nil, gpg.InvalidConfigurationf("unsupported step operation: %q", op)
	}

	return &Step{
		ID:        id,
		Operation: op,
		Params:    params,
	}, nil
}

// Name returns ID, or the operation if ID is not set
func (s *Step) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Operation
}

// RunStep decodes the step parameters and runs the operation.
// The returned value is one of *ImportResult, *GenerateResult,
// *EncryptResult or *DecryptResult.
func (p *Pipelines) RunStep(ctx context.Context, step *Step) (any, error) {
	switch step.Operation {
	case StepImport:
		var cfg ImportConfig
		if err := Decode(step.Params, &cfg); err != nil {
			return nil, err
		}
		return p.Import(ctx, &cfg)
	case StepGenerate:
		var cfg GenerateConfig
		if err := Decode(step.Params, &cfg); err != nil {
			return nil, err
		}
		return p.Generate(ctx, &cfg)
	case StepEncrypt:
		var cfg EncryptConfig
		if err := Decode(step.Params, &cfg); err != nil {
			return nil, err
		}
		return p.Encrypt(ctx, &cfg)
	case StepDecrypt:
		var cfg DecryptConfig
		if err := Decode(step.Params, &cfg); err != nil {
			return nil, err
		}
		return p.Decrypt(ctx, &cfg)
	}
	return nil, gpg.InvalidConfigurationf("unsupported step operation: %q", step.Operation)
}

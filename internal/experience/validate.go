package experience

import (
	"fmt"
	"strings"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/runtime"
	"github.com/playperu/snapbooth/internal/transform"
)

const (
	phaseStructural = "structural"
	phaseSemantic   = "semantic"
	phaseDomain     = "domain"

	severityError   = "error"
	severityWarning = "warning"
)

// ValidationError is one problem found in a definition.
type ValidationError struct {
	Phase    string `json:"phase"`
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: severityError}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: severityWarning}
}

// HasErrors reports whether errs contains anything worse than a warning.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == severityError {
			return true
		}
	}
	return false
}

// ValidateFile runs all three phases on a definition file.
func ValidateFile(path string) (*booth.Experience, []*ValidationError) {
	exp, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(phaseStructural, "", "failed to load: %s", err)}
	}
	return exp, Validate(exp)
}

// Check runs all three phases on raw YAML or JSON.
func Check(data []byte) (*booth.Experience, []*ValidationError) {
	exp, err := Parse(data)
	if err != nil {
		return nil, []*ValidationError{errorf(phaseStructural, "", "failed to load: %s", err)}
	}
	return exp, Validate(exp)
}

// Validate runs the semantic and domain phases on a decoded experience.
// Domain rules only run when the schema is satisfied.
func Validate(exp *booth.Experience) []*ValidationError {
	errs := validateSemantic(exp)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(exp)...)
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}

func validateDomain(exp *booth.Experience) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]int)
	firstOutcome := -1

	for i, step := range exp.Steps {
		path := stepPath(i)
		if prev, ok := seen[step.ID]; ok {
			errs = append(errs, errorf(phaseDomain, path+".id", "duplicate step ID %q (first used at %s)", step.ID, stepPath(prev)))
		} else {
			seen[step.ID] = i
		}

		if step.Type.IsOutcome() {
			if firstOutcome < 0 {
				firstOutcome = i
			}
		} else if firstOutcome >= 0 {
			errs = append(errs, errorf(phaseDomain, path, "%s step must come before the %s step at %s", step.Type, exp.Steps[firstOutcome].Type, stepPath(firstOutcome)))
		}

		if strings.TrimSpace(step.SkipIf) != "" {
			if _, err := runtime.CompileCondition(step.SkipIf); err != nil {
				errs = append(errs, errorf(phaseDomain, path+".skipIf", "%v", err))
			}
			if i == 0 {
				errs = append(errs, warningf(phaseDomain, path+".skipIf", "the first step is always shown"))
			}
		}

		errs = append(errs, validateStep(exp, step, path)...)
	}

	if len(exp.Steps) > 0 && firstOutcome == 0 {
		errs = append(errs, errorf(phaseDomain, "steps", "at least one step must come before the result steps"))
	}

	if exp.Outcome != nil {
		errs = append(errs, validateOutcome(exp, seen)...)
	}
	return errs
}

func validateStep(exp *booth.Experience, step booth.Step, path string) []*ValidationError {
	var errs []*ValidationError
	cfg := step.Config

	switch step.Type {
	case booth.StepMultipleChoice:
		if len(cfg.Choices) < 2 {
			errs = append(errs, errorf(phaseDomain, path+".config.choices", "multiple_choice step requires at least 2 choices"))
		}
		ids := make(map[string]bool)
		for j, c := range cfg.Choices {
			if ids[c.ID] {
				errs = append(errs, errorf(phaseDomain, fmt.Sprintf("%s.config.choices[%d]", path, j), "duplicate choice ID %q", c.ID))
			}
			ids[c.ID] = true
		}
	case booth.StepOpinionScale:
		if cfg.Min != 0 || cfg.Max != 0 {
			if cfg.Max <= cfg.Min {
				errs = append(errs, errorf(phaseDomain, path+".config", "scale max (%d) must be greater than min (%d)", cfg.Max, cfg.Min))
			} else if cfg.Max-cfg.Min > 10 {
				errs = append(errs, errorf(phaseDomain, path+".config", "scale spans more than 11 values"))
			}
		}
	case booth.StepExperiencePicker:
		if len(cfg.Experiences) == 0 {
			errs = append(errs, errorf(phaseDomain, path+".config.experiences", "experience-picker step requires at least one experience"))
		}
	case booth.StepAITransform, booth.StepProcessing:
		if exp.Outcome == nil {
			errs = append(errs, errorf(phaseDomain, path, "%s step requires an outcome", step.Type))
		}
	case booth.StepInfo:
		if step.Required {
			errs = append(errs, warningf(phaseDomain, path+".required", "info steps collect nothing; required has no effect"))
		}
	}

	if step.Type.IsOutcome() && step.SkipIf != "" {
		errs = append(errs, warningf(phaseDomain, path+".skipIf", "result steps are only skipped after completion"))
	}
	return errs
}

func validateOutcome(exp *booth.Experience, seen map[string]int) []*ValidationError {
	var errs []*ValidationError
	o := exp.Outcome

	if _, err := transform.ParsePrompt(o.Prompt); err != nil {
		errs = append(errs, errorf(phaseDomain, "outcome.prompt", "%v", err))
	}
	if o.SourceStepID != "" {
		i, ok := seen[o.SourceStepID]
		switch {
		case !ok:
			errs = append(errs, errorf(phaseDomain, "outcome.sourceStepId", "unknown step %q", o.SourceStepID))
		case exp.Steps[i].Type != booth.StepCapture:
			errs = append(errs, errorf(phaseDomain, "outcome.sourceStepId", "step %q is a %s step, expected capture", o.SourceStepID, exp.Steps[i].Type))
		}
	}
	if o.Size != "" && !transform.ValidSize(o.Size) {
		errs = append(errs, errorf(phaseDomain, "outcome.size", "unsupported image size %q", o.Size))
	}

	hasResult := false
	for _, s := range exp.Steps {
		if s.Type == booth.StepProcessing || s.Type == booth.StepReward {
			hasResult = true
		}
	}
	if !hasResult {
		errs = append(errs, warningf(phaseDomain, "outcome", "no processing or reward step shows the result"))
	}
	return errs
}

package branchflow

import "fmt"

// Validator inspects a branch before it is stored
type Validator func(b *Branch) error

type namedValidator struct {
	name string
	fn   Validator
}

func defaultValidators() []namedValidator {
	return []namedValidator{
		{"connection", validateConnection},
		{"condition", validateCondition},
		{"weight", validateWeight},
	}
}

func validateConnection(b *Branch) error {
	if b.SourceNodeID == "" || b.TargetNodeID == "" {
		return fmt.Errorf("branch requires source and target nodes")
	}
	if b.SourceNodeID == b.TargetNodeID {
		return fmt.Errorf("branch cannot connect a node to itself")
	}
	return nil
}

func validateCondition(b *Branch) error {
	if u, ok := b.Condition.(unsupportedCondition); ok {
		return u.err
	}
	return nil
}

func validateWeight(b *Branch) error {
	if !(b.Weight >= 0 && b.Weight <= 100) {
		return fmt.Errorf("branch weight must be within 0-100, got %g", b.Weight)
	}
	return nil
}

package harness

import (
	"context"
	"fmt"
)

// TypeOptions configures TypeInto.
type TypeOptions struct {
	// Clear empties the field before typing. The clear is a deterministic
	// value assignment, not select-all+type.
	Clear bool
}

// Click resolves the target and clicks it.
func Click(ctx context.Context, b Browser, t Target) error {
	m, err := Resolve(ctx, b, t)
	if err != nil {
		return err
	}
	if err := b.Click(ctx, m.Selector); err != nil {
		return fmt.Errorf("click %q: %w", t.Name, err)
	}
	return nil
}

// TypeInto resolves the target, optionally clears it, types text, and
// returns the field's value as read back afterwards. Entering text is not
// considered successful until the read-back matches expectation; asserting
// that equality is the caller's responsibility, not the primitive's.
func TypeInto(ctx context.Context, b Browser, t Target, text string, opts TypeOptions) (string, error) {
	m, err := Resolve(ctx, b, t)
	if err != nil {
		return "", err
	}

	if opts.Clear {
		if err := b.SetValue(ctx, m.Selector, ""); err != nil {
			return "", fmt.Errorf("clear %q: %w", t.Name, err)
		}
	}

	if err := b.SendKeys(ctx, m.Selector, text); err != nil {
		return "", fmt.Errorf("type into %q: %w", t.Name, err)
	}

	value, err := b.Value(ctx, m.Selector)
	if err != nil {
		return "", fmt.Errorf("read back %q: %w", t.Name, err)
	}
	return value, nil
}

// ReadValue resolves the target and returns its current value.
func ReadValue(ctx context.Context, b Browser, t Target) (string, error) {
	m, err := Resolve(ctx, b, t)
	if err != nil {
		return "", err
	}
	value, err := b.Value(ctx, m.Selector)
	if err != nil {
		return "", fmt.Errorf("read value of %q: %w", t.Name, err)
	}
	return value, nil
}

// SelectOption resolves a select target and picks an option by value.
func SelectOption(ctx context.Context, b Browser, t Target, value string) error {
	m, err := Resolve(ctx, b, t)
	if err != nil {
		return err
	}
	if err := b.SetValue(ctx, m.Selector, value); err != nil {
		return fmt.Errorf("select %q on %q: %w", value, t.Name, err)
	}
	return nil
}

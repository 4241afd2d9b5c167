package querysync

import "context"

type invalidatePatternsContextKey struct{}

// WithInvalidatePatterns attaches additional invalidation patterns to the
// context. Mutation engines union them with their configured patterns after
// a confirmed write, which lets call sites widen invalidation without
// reconfiguring the engine.
func WithInvalidatePatterns(ctx context.Context, patterns ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(patterns) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(invalidatePatternsFromContext(ctx), patterns...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, invalidatePatternsContextKey{}, combined)
}

func invalidatePatternsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if patterns, ok := ctx.Value(invalidatePatternsContextKey{}).([]string); ok {
		return append([]string(nil), patterns...)
	}
	return nil
}

// dedupeStrings drops empties and duplicates, preserving first-seen order.
func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

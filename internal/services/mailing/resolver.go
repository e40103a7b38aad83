package mailing

import "context"

// Resolver merges selected groups into a deduplicated destination set.
type Resolver struct {
	groups GroupStore
}

func NewResolver(groups GroupStore) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve returns the union of the destination ids of the given groups.
// Duplicate group ids collapse before lookup; group ids that no longer
// exist are skipped (a group deleted between selection and confirmation
// must not abort the flow). The result is a pure function of the store's
// current contents: same input before any mutation, same output.
func (r *Resolver) Resolve(ctx context.Context, groupIDs []int64) ([]int64, error) {
	groups, err := r.groups.ListChatGroupsByIDs(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []int64
	for _, g := range groups {
		for _, chatID := range g.ChatIDs {
			if _, ok := seen[chatID]; ok {
				continue
			}
			seen[chatID] = struct{}{}
			out = append(out, chatID)
		}
	}
	return out, nil
}

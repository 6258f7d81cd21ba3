package doctor

import (
	"context"
	"fmt"

	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/draft"
)

// DraftsCheck detects saved drafts addressed to counterparts that are no
// longer in the directory.
type DraftsCheck struct {
	drafts    draft.Store
	directory Directory
	role      account.Role
	fix       bool
}

// NewDraftsCheck creates a new orphaned draft check.
// If fix is true, orphaned drafts are deleted.
func NewDraftsCheck(drafts draft.Store, directory Directory, role account.Role, fix bool) *DraftsCheck {
	return &DraftsCheck{
		drafts:    drafts,
		directory: directory,
		role:      role,
		fix:       fix,
	}
}

func (c *DraftsCheck) Name() string {
	return "Drafts"
}

func (c *DraftsCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	drafts, err := c.drafts.List(ctx)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "List drafts",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	if len(drafts) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "No drafts",
			Status: StatusPass,
		})
		return result
	}

	entries, err := c.directory.Counterparts(ctx, c.role.Counterpart())
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Fetch directory",
			Status: StatusWarn,
			Detail: fmt.Sprintf("skipped orphan check: %v", err),
		})
		return result
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.ID] = true
	}

	var orphans []draft.Draft
	for _, d := range drafts {
		if !known[d.CounterpartID] {
			orphans = append(orphans, d)
		}
	}

	if len(orphans) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "No orphans",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d drafts, all addressed to known counterparts", len(drafts)),
		})
		return result
	}

	for _, d := range orphans {
		switch {
		case !c.fix:
			result.Items = append(result.Items, CheckItem{
				Label:   d.CounterpartID,
				Status:  StatusWarn,
				Detail:  "draft for unknown counterpart",
				Fixable: true,
			})
		case c.drafts.Set(ctx, d.CounterpartID, "") != nil:
			result.Items = append(result.Items, CheckItem{
				Label:  d.CounterpartID,
				Status: StatusFail,
				Detail: "failed to delete draft",
			})
		default:
			result.Items = append(result.Items, CheckItem{
				Label:  d.CounterpartID,
				Status: StatusPass,
				Detail: "deleted orphaned draft",
			})
		}
	}

	return result
}

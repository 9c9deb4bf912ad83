package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odyssey-erp/passport/internal/rbac"
)

// BaselineEnsurer creates the role catalogue.
type BaselineEnsurer interface {
	EnsureBaseline(ctx context.Context, cat rbac.Catalogue) (rbac.BaselineReport, error)
}

// AccessCLI offers operational helpers around the role graph.
type AccessCLI struct {
	graphs rbac.GraphLoader
	seeder BaselineEnsurer
}

// NewAccessCLI constructs a new helper instance.
func NewAccessCLI(graphs rbac.GraphLoader, seeder BaselineEnsurer) *AccessCLI {
	return &AccessCLI{graphs: graphs, seeder: seeder}
}

// AccessOptions configures the access inspection command.
type AccessOptions struct {
	UserID     int64
	Permission string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AccessSummary is the structured outcome of an access inspection.
type AccessSummary struct {
	UserID      int64    `json:"user_id"`
	Tier        string   `json:"tier"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Permission  string   `json:"permission,omitempty"`
	Allowed     *bool    `json:"allowed,omitempty"`
}

// AccessCommand prints a user's roles, tier and effective permissions.
// When a permission is given the exit code is 1 if the user lacks it.
func (c *AccessCLI) AccessCommand(ctx context.Context, opts AccessOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 {
		fmt.Fprintln(opts.Stderr, "access: --user must be a positive id")
		return 2
	}
	graph, err := c.graphs.Graph(ctx, opts.UserID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "access: load role graph: %v\n", err)
		return 2
	}

	summary := AccessSummary{
		UserID:      opts.UserID,
		Tier:        string(rbac.ResolveTier(graph)),
		Roles:       graph.RoleNames(),
		Permissions: permissionNames(graph),
	}
	code := 0
	if perm := strings.TrimSpace(opts.Permission); perm != "" {
		allowed := rbac.HasPermission(graph, rbac.ByName(perm))
		summary.Permission = perm
		summary.Allowed = &allowed
		if !allowed {
			code = 1
		}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "access: encode: %v\n", err)
			return 2
		}
		return code
	}

	fmt.Fprintf(opts.Stdout, "user %d (%s)\n", summary.UserID, summary.Tier)
	fmt.Fprintf(opts.Stdout, "roles: %s\n", joinOrDash(summary.Roles))
	fmt.Fprintf(opts.Stdout, "permissions: %s\n", joinOrDash(summary.Permissions))
	if summary.Allowed != nil {
		verdict := "denied"
		if *summary.Allowed {
			verdict = "allowed"
		}
		fmt.Fprintf(opts.Stdout, "%s: %s\n", summary.Permission, verdict)
	}
	return code
}

// SeedCommand runs the baseline bootstrap once and prints the report.
func (c *AccessCLI) SeedCommand(ctx context.Context, extended bool, stdout io.Writer) error {
	if c.seeder == nil {
		return errors.New("seed: seeder not configured")
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	report, err := c.seeder.EnsureBaseline(ctx, rbac.DefaultCatalogue(extended))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "permissions=%d roles=%d new_grants=%d\n", report.Permissions, report.Roles, report.Grants)
	return nil
}

func permissionNames(g rbac.Graph) []string {
	perms := rbac.EffectivePermissions(g)
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

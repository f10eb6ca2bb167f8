package database

import (
	"context"
	"strings"

	"github.com/upgradekit/odooup/upgradeerrors"
)

// versionQueries are tried in order against the restored database; the
// first non-empty result wins. The module-state lookup is authoritative;
// the configuration parameter and the most-recent-row lookups cover
// databases left in inconsistent states by earlier upgrades.
var versionQueries = []string{
	"SELECT latest_version FROM ir_module_module WHERE name = 'base' AND state = 'installed';",
	"SELECT value FROM ir_config_parameter WHERE key = 'database.latest_version';",
	"SELECT latest_version FROM ir_module_module WHERE name = 'base' ORDER BY id DESC LIMIT 1;",
}

// CurrentVersion returns the installed schema version of the restored
// database. Per-query failures are captured and skipped; if every
// strategy comes back empty the session cannot know where it stands and
// ErrVersionUnknown is returned.
func (c *Controller) CurrentVersion(ctx context.Context) (string, error) {
	for _, q := range versionQueries {
		out, err := c.Exec.Exec(ctx, ServiceName,
			"psql", "-U", User, "-d", TargetDatabase, "-t", "-A", "-c", q)
		if err != nil {
			c.Debugf("version query failed: %v\n", err)
			continue
		}

		if v := strings.TrimSpace(out); v != "" {
			return v, nil
		}
	}

	return "", upgradeerrors.ErrVersionUnknown
}

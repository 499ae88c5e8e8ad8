package db

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/weccap/internal/httputil"
)

// AttachAdminRoutes mounts a tailsql console for the history store and a
// migration status page under /debug/. tsweb restricts both to localhost
// and tailnet callers.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "History DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("migrations", "schema migration status", func(w http.ResponseWriter, r *http.Request) {
		status, err := db.GetMigrationStatus()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, status)
	})
	return nil
}

// Package database provides SQLite storage for Hydro Core.
//
// The database holds the command log (every mode change, relay toggle and
// schedule edit with its outcome). Relay state itself lives in the remote
// state channel, never here.
//
// Migrations are plain SQL files embedded by the migrations package and
// passed to Migrate as an fs.FS:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database

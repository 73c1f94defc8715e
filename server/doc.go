// Package server implements an event-driven FTP server.
//
// # Overview
//
// A single goroutine services every client: it waits on an epoll set
// holding the listening socket, each control connection, each passive
// listener and each data connection, and advances whichever became ready.
// Transfers move 100 KiB at a time as their socket allows, so a slow
// client never holds up another. The package is Linux only.
//
// Two collaborators are supplied by the caller:
//   - a FileStore, the file system sessions see (AferoStore wraps any
//     afero.Fs; NewFSStore serves a local directory)
//   - an IdentityProvider deciding logins (UserTable checks bcrypt hashes
//     and optionally admits anonymous users)
//
// # Getting Started
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/gonzalop/miniftp/server"
//	)
//
//	func main() {
//	    store, err := server.NewFSStore("/srv/ftp")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    users, err := server.NewUserTable(nil, server.WithAnonymous(true))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":2121",
//	        server.WithFileStore(store),
//	        server.WithIdentityProvider(users),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    log.Fatal(s.ListenAndServe())
//	}
//
// # Sessions
//
// Each control connection is a session: USER/PASS log it in, after which
// CWD, LIST, RETR, STOR and the other commands act on the file store.
// Commands sent while a transfer runs are queued and answered in order
// once it ends; ABOR is the exception and ends the transfer at once.
// A data connection is opened per transfer from the preceding PORT or
// PASV and is never reused. REST applies to the next RETR or STOR only,
// and only in binary mode.
//
// # Logging
//
// The server logs with log/slog. Security relevant events
// (authentication_failed, connection_rejected, file_deleted, ...) are
// logged at Info or Warn; individual commands at Debug, with PASS
// arguments masked. Use WithPathRedactor to hide paths and
// WithTransferLog for an xferlog-style transfer log.
package server

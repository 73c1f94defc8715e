// Package ftp implements a small FTP client for servers such as the one in
// the server package of this module.
//
// # Overview
//
// The client speaks plain FTP over a single control connection and opens a
// new data connection for every transfer or listing, either passively
// (PASV, the default) or actively (PORT, see WithActiveMode). Failures the
// server reports come back as *ProtocolError, carrying the command and
// reply code.
//
// # Basic Usage
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("username", "password"); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Transfers
//
// Upload and download return the number of bytes moved:
//
//	n, err := client.StoreFrom("remote.txt", "local.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes sent\n", n)
//
//	_, err = client.RetrieveTo("remote.txt", "copy.txt")
//
// Transfers use the current type. Login leaves the session in binary
// mode; call Type("A") for ASCII transfers with line ending conversion.
// RetrieveFrom and StoreAt resume at an offset with REST, which the
// server accepts in binary mode only.
//
// # Directory Operations
//
//	entries, err := client.List("/pub")
//	for _, e := range entries {
//	    fmt.Println(e.Type, e.Size, e.Name)
//	}
//
//	client.MakeDir("/pub/new")
//	client.Rename("/pub/a.txt", "/pub/b.txt")
//
// # Error Handling
//
//	if err := client.Delete("missing.txt"); err != nil {
//	    if pe, ok := err.(*ftp.ProtocolError); ok && pe.IsPermanent() {
//	        fmt.Println("server refused:", pe.Code)
//	    }
//	}
//
// # Debugging
//
// WithLogger logs every command and reply at Debug level. WithResponseHook
// shows each reply to a callback, which the interactive shell uses to echo
// the server's text.
package ftp

// Package ftps uploads a single file to an FTP server over explicit TLS
// (FTPS, RFC 4217).
//
// # Overview
//
// One upload attempt is one control channel moving forward through a fixed
// sequence of states:
//
//	connect -> AUTH TLS -> USER/PASS -> PBSZ 0, PROT P -> CWD -> TYPE I
//	-> EPSV/PASV -> dial data -> STOR (1xx) -> data TLS -> stream bytes
//	-> close data -> final reply (2xx) -> QUIT
//
// Any failure short-circuits the remaining steps, but the control channel
// is always disconnected before the result is returned. A transfer counts
// as successful only when the server's final reply is 2xx: bytes having
// been written to the data socket is not enough.
//
// # Basic Usage
//
//	profile := ftps.Profile{
//	    Host:      "ftp.example.com",
//	    Port:      21,
//	    Username:  "alice",
//	    Password:  "secret",
//	    Directory: "/incoming",
//	}
//
//	f, err := os.Open("report.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//	info, _ := f.Stat()
//
//	out := ftps.Upload(ctx, profile, "report.pdf", f, info.Size())
//	if !out.Success {
//	    log.Fatalf("upload %s: %v", out.Kind, out.Err)
//	}
//
// TestConnection runs only connect, TLS, login and directory change, so a
// profile can be checked before anything is sent.
//
// # Trust Policy
//
// The server certificate is verified against the system roots by default.
// Servers with self-signed certificates are best handled with Pinned or
// PinnedSHA256. AcceptAll disables verification entirely and is labeled
// insecure: the channel is encrypted but the server is not authenticated.
//
// # TLS Session Reuse
//
// Many FTPS servers (vsftpd, ProFTPD, pyftpdlib) require the data
// connection to resume the control connection's TLS session. The control
// and data channels share one tls.Config with a ClientSessionCache keyed by
// ServerName, so this happens without configuration.
//
// # Error Handling
//
// Every failure is an *Error carrying a Kind: connect, tls, auth, protocol,
// data-channel, transfer-io, completion or canceled. The server's reply,
// when there is one, is available as a wrapped *ProtocolError:
//
//	var pe *ftps.ProtocolError
//	if errors.As(out.Err, &pe) {
//	    fmt.Println(pe.Command, pe.Code, pe.Response)
//	}
//
// # Cancellation
//
// Cancelling the context closes both sockets, so blocked reads and writes
// return immediately; the attempt reports KindCanceled.
package ftps

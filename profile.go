package ftps

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the control port used when a Profile leaves Port unset.
const DefaultPort = 21

// Profile describes the server an upload goes to. It is supplied by the
// caller on every invocation and never persisted by this package.
type Profile struct {
	Host     string
	Port     int
	Username string
	Password string

	// Directory is the remote working directory for the upload. Empty
	// means the server's login directory.
	Directory string
}

// Validate checks that the profile can be dialed.
func (p Profile) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidProfile)
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidProfile, p.Port)
	}
	return nil
}

// Addr returns the host:port of the control connection.
func (p Profile) Addr() string {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// String is safe to log; it never includes the password.
func (p Profile) String() string {
	dir := p.Directory
	if dir == "" {
		dir = "~"
	}
	return fmt.Sprintf("%s@%s:%s", p.Username, p.Addr(), dir)
}

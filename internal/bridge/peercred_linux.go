//go:build linux

package bridge

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// PeerCredentials returns the credentials of the process on the other end of
// a unix socket.
func PeerCredentials(conn net.Conn) (*Credentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt: %w", credErr)
	}
	return &Credentials{PID: int(cred.Pid), UID: int(cred.Uid), GID: int(cred.Gid)}, nil
}

// VerifySameUser rejects a unix peer running as another user.
func VerifySameUser(conn net.Conn) error {
	cred, err := PeerCredentials(conn)
	if err != nil {
		return err
	}
	if cred.UID != os.Getuid() {
		return fmt.Errorf("%w: peer uid %d is not %d", ErrHandshake, cred.UID, os.Getuid())
	}
	return nil
}

//go:build linux

package bridge

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCred reports the pid and uid of the process on the other end of a
// unix-domain connection.
func peerCred(conn net.Conn) (pid, uid uint32, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || credErr != nil || cred == nil {
		return 0, 0, false
	}
	return uint32(cred.Pid), cred.Uid, true
}

package handler

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
)

const (
	authOK        byte = 0x00
	authBadName   byte = 0x01
	authWrongPass byte = 0x08
)

const maxNameLen = 32

// HandleAuth processes C_AUTH: [opcode][name\0][password\0].
// Any name is accepted as a player. A password that matches the configured
// operator hash also grants operator rights; a wrong one is refused.
func HandleAuth(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := strings.TrimSpace(r.ReadS())
	password := r.ReadS()

	if r.Err() != nil || name == "" || utf8.RuneCountInString(name) > maxNameLen {
		sendAuthResult(sess, deps, authBadName)
		return
	}

	operator := false
	if password != "" {
		hash := deps.Config.Auth.OperatorPasswordHash
		if hash == "" || !ValidatePassword(hash, password) {
			deps.Log.Warn("operator login refused", zap.String("name", name), zap.String("ip", sess.IP))
			sendAuthResult(sess, deps, authWrongPass)
			return
		}
		operator = true
	}

	sess.Name = name
	sess.Operator = operator
	sess.SetState(packet.StateAuthenticated)
	sendAuthResult(sess, deps, authOK)
	deps.Log.Info("session authenticated",
		zap.Uint64("session", sess.ID),
		zap.String("name", name),
		zap.Bool("operator", operator),
	)
}

// ValidatePassword reports whether raw matches the bcrypt hash.
func ValidatePassword(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// HashPassword returns a bcrypt hash suitable for [auth].operator_password_hash.
func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func sendAuthResult(sess *net.Session, deps *Deps, code byte) {
	w := packet.NewWriterCharset(packet.S_OPCODE_AUTH_RESULT, deps.Charset)
	w.WriteC(code)
	sess.Send(w.Bytes())
}

package service

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/graphery/executor/internal/controller"
)

// CacheKey returns the hex blake3 digest of everything that determines the
// result of a run: the request and the settings that shape the output.
func CacheKey(req controller.Request, s controller.Settings) string {
	h := blake3.New()
	field(h, []byte(req.Code))
	field(h, req.Graph)
	field(h, []byte(req.Version))
	field(h, []byte(strconv.FormatInt(int64(s.CPUTime), 10)))
	field(h, []byte(strconv.FormatInt(s.MemoryLimit, 10)))
	field(h, []byte(strconv.Itoa(s.FloatPrecision)))
	field(h, []byte(strconv.Itoa(s.MaxReprLength)))
	field(h, []byte(strconv.FormatInt(s.Seed, 10)))
	field(h, []byte(strconv.FormatBool(s.Trusted)))
	field(h, []byte(strconv.Itoa(len(s.Inputs))))
	for _, in := range s.Inputs {
		field(h, []byte(in))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// field writes a length-prefixed value so adjacent fields cannot collide.
func field(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// cacheable reports whether res depends on the program alone. Resource
// limits and internal failures depend on the host and are not cached.
func cacheable(res *controller.Result) bool {
	if res.Error == nil {
		return true
	}
	switch res.Error.Kind {
	case controller.KindRuntime, controller.KindCompile, controller.KindCapabilityDenied, controller.KindProtocolMismatch:
		return true
	}
	return false
}

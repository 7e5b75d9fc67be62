package cloud

import (
	"fmt"
	"math/rand/v2"
)

const (
	agentSuffixLength = 13
	deviceIDLength    = 6
	agentFormat       = "ANDROID-APP-%s APP/com.xiaomi.mihome APPV/10.5.201"
)

// Identity is the synthetic client identity presented to the cloud. It is generated
// once per Engine and never changes afterwards.
type Identity struct {
	Agent    string
	DeviceID string
}

// NewIdentity draws a fresh identity from r.
func NewIdentity(r *rand.Rand) Identity {
	return Identity{
		Agent:    GenerateAgent(r),
		DeviceID: GenerateDeviceID(r),
	}
}

// GenerateAgent returns a user agent whose 13-letter client slot only uses A-E.
func GenerateAgent(r *rand.Rand) string {
	return fmt.Sprintf(agentFormat, randomLetters(r, agentSuffixLength, 'A', 'E'))
}

// GenerateDeviceID returns a 6-letter lowercase device id.
func GenerateDeviceID(r *rand.Rand) string {
	return randomLetters(r, deviceIDLength, 'a', 'z')
}

func randomLetters(r *rand.Rand, n int, lo, hi byte) string {
	b := make([]byte, n)
	span := int(hi-lo) + 1
	for i := range b {
		b[i] = lo + byte(r.IntN(span))
	}
	return string(b)
}

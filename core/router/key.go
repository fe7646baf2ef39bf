package router

// MaxStackKey is the key length that fits the dispatcher's stack buffer
const MaxStackKey = 256

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// AppendKey appends the route key "<method-id>:<path>" to dst. Callers
// pass a stack-backed buffer; append moves to the heap only when the key
// does not fit.
func AppendKey(dst []byte, m Method, path string) []byte {
	dst = append(dst, '0'+byte(m))
	dst = append(dst, ':')
	return append(dst, path...)
}

// Key returns the route key for method and path
func Key(m Method, path string) string {
	return string(AppendKey(make([]byte, 0, len(path)+2), m, path))
}

// Hash computes the 64-bit FNV-1a hash of a route key. The hash is the
// only identity used by the snapshot and the hot cache.
func Hash(key string) uint64 {
	hash := uint64(fnvOffset)
	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= fnvPrime
	}
	return hash
}

// HashBytes is Hash over a byte slice
func HashBytes(key []byte) uint64 {
	hash := uint64(fnvOffset)
	for _, b := range key {
		hash ^= uint64(b)
		hash *= fnvPrime
	}
	return hash
}

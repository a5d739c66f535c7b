package util

const Debug uint64 = 1

// DPrintf logs at zap debug level when level is enabled by Debug.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		sugar().Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	}
	return m
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}

func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

// Log2 returns floor(log2(n)) for n > 0.
func Log2(n uint64) uint64 {
	var s uint64
	for n > 1 {
		n >>= 1
		s++
	}
	return s
}

func IsPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

package index

// Extract pulls the value for key out of raw "k=v" pairs.
func Extract(raw, key string) string {
	for _, pair := range split(raw) {
		if len(pair) == 2 && pair[0] == key {
			return pair[1]
		}
	}
	return ""
}

func split(raw string) [][2]string {
	var out [][2]string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			seg := raw[start:i]
			for j := 0; j < len(seg); j++ {
				if seg[j] == '=' {
					out = append(out, [2]string{seg[:j], seg[j+1:]})
					break
				}
			}
			start = i + 1
		}
	}
	return out
}

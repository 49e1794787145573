// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

// appendLabel appends label to out escaping '.' and '\' with a backslash.
func appendLabel(out, label []byte) []byte {
	for _, c := range label {
		if c == '.' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return out
}

// splitLabels splits a presentation name into its wire labels.
//
// A backslash makes the following byte part of the label. A trailing
// unescaped dot is optional and "." is the root name.
func splitLabels(name string) ([][]byte, error) {
	if name == "." {
		return nil, nil
	}
	var (
		labels  [][]byte
		label   []byte
		escaped bool
	)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case escaped:
			label = append(label, c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '.':
			if len(label) == 0 {
				return nil, ErrEmptyLabel
			}
			labels = append(labels, label)
			label = nil
		default:
			label = append(label, c)
		}
	}
	if escaped {
		label = append(label, '\\')
	}
	if len(label) > 0 {
		labels = append(labels, label)
	}
	return labels, nil
}

// TrimDot removes the trailing dot from a presentation name unless
// the dot is escaped. The root name "." is returned unchanged.
func TrimDot(name string) string {
	if name == "." || len(name) == 0 || name[len(name)-1] != '.' {
		return name
	}
	slashes := 0
	for i := len(name) - 2; i >= 0 && name[i] == '\\'; i-- {
		slashes++
	}
	if slashes%2 == 1 {
		return name
	}
	return name[:len(name)-1]
}

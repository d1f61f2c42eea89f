package pbf

// StringTable is the per-block string dictionary referenced by index.
type StringTable []string

// Lookup returns the string at index i.
func (st StringTable) Lookup(i int64) (string, error) {
	if i < 0 || i >= int64(len(st)) {
		return "", newError(KindSchemaViolation, "string table lookup",
			"index %d out of range [0,%d)", i, len(st))
	}
	return st[i], nil
}

// ResolveTags pairs up key and value indices into a tag map. The two slices
// must have equal length and every index must be inside the table.
func ResolveTags(keys, vals []uint32, st StringTable) (map[string]string, error) {
	if len(keys) != len(vals) {
		return nil, newError(KindSchemaViolation, "resolve tags",
			"%d keys but %d values", len(keys), len(vals))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	tags := make(map[string]string, len(keys))
	for i := range keys {
		k, err := st.Lookup(int64(keys[i]))
		if err != nil {
			return nil, err
		}
		v, err := st.Lookup(int64(vals[i]))
		if err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, nil
}

// denseTags walks the keys_vals column of a dense node set. Each node's
// pairs end with a 0; an empty column means no node has tags.
type denseTags struct {
	kv  []int32
	pos int
	st  StringTable
}

func (d *denseTags) next() (map[string]string, error) {
	if d.pos >= len(d.kv) {
		return nil, nil
	}

	var tags map[string]string
	for {
		if d.pos >= len(d.kv) {
			return nil, newError(KindSchemaViolation, "dense tags", "keys_vals not terminated")
		}
		ki := d.kv[d.pos]
		if ki == 0 {
			d.pos++
			return tags, nil
		}
		if d.pos+1 >= len(d.kv) {
			return nil, newError(KindSchemaViolation, "dense tags", "key %d without value", ki)
		}
		k, err := d.st.Lookup(int64(ki))
		if err != nil {
			return nil, err
		}
		v, err := d.st.Lookup(int64(d.kv[d.pos+1]))
		if err != nil {
			return nil, err
		}
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[k] = v
		d.pos += 2
	}
}

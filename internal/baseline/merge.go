package baseline

// Merge deep-merges override onto base. Mappings merge key by key; every
// other value, sequences included, is replaced wholesale by the override.
func Merge(base, override any) any {
	bm, bok := base.(map[string]any)
	om, ook := override.(map[string]any)
	if !bok || !ook {
		return override
	}

	out := make(map[string]any, len(bm)+len(om))
	for k, v := range bm {
		out[k] = v
	}
	for k, ov := range om {
		if bv, ok := out[k]; ok {
			out[k] = Merge(bv, ov)
			continue
		}
		out[k] = ov
	}
	return out
}

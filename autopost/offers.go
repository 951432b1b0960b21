package autopost

// offersOf extracts the job's offers array as a mutable slice of maps, or
// nil if args carries no offers array.
func offersOf(args map[string]interface{}) []map[string]interface{} {
	raw, ok := args["offers"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func setOffers(args map[string]interface{}, offers []map[string]interface{}) {
	arr := make([]interface{}, len(offers))
	for i, o := range offers {
		arr[i] = o
	}
	args["offers"] = arr
}

// normalizeOfferLineIndexes assigns each offer a unique non-negative
// line_index, preferring a caller-supplied value and otherwise falling
// back to the offer's position, advancing past collisions, per spec §4.10
// step 2.
func normalizeOfferLineIndexes(offers []map[string]interface{}) {
	used := make(map[int]bool, len(offers))
	provided := make([]bool, len(offers))

	for i, o := range offers {
		if v, ok := o["line_index"]; ok {
			if n, ok2 := toNonNegInt(v); ok2 && !used[n] {
				used[n] = true
				o["line_index"] = n
				provided[i] = true
			}
		}
	}

	for i, o := range offers {
		if provided[i] {
			continue
		}
		pos := i
		for used[pos] {
			pos++
		}
		used[pos] = true
		o["line_index"] = pos
	}
}

// pruneFilledOffers removes, at most once per matching trade, the first
// surviving offer whose (btc_sats, usdt_amount) matches a claimed trade
// made by peerSignerHex and updated since startedAt, per spec §4.10 step 3.
func pruneFilledOffers(offers []map[string]interface{}, trades []Trade, peerSignerHex string, startedAt int64) []map[string]interface{} {
	removed := make([]bool, len(offers))
	for _, tr := range trades {
		if tr.State != "claimed" {
			continue
		}
		if !sameSigner(tr.Maker, peerSignerHex) {
			continue
		}
		if tr.UpdatedAt < startedAt {
			continue
		}
		for i, o := range offers {
			if removed[i] {
				continue
			}
			sats, _ := toNonNegInt(o["btc_sats"])
			amount := asString(o["usdt_amount"])
			if int64(sats) == tr.BTCSats && amount == tr.USDTAmount {
				removed[i] = true
				break
			}
		}
	}

	out := make([]map[string]interface{}, 0, len(offers))
	for i, o := range offers {
		if !removed[i] {
			out = append(out, o)
		}
	}
	return out
}

func sameSigner(a, b string) bool {
	return a != "" && b != "" && a == b
}

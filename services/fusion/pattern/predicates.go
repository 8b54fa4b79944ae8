// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pattern

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/opfuse/services/fusion/opgraph"
)

// Any accepts every op.
func Any() Decision {
	return Decision{Label: "any", Accept: func(*opgraph.Op) bool { return true }}
}

// KindIs accepts ops of any of the given kinds.
func KindIs(kinds ...opgraph.OpKind) Decision {
	set := make(map[opgraph.OpKind]bool, len(kinds))
	names := make([]string, len(kinds))
	for i, k := range kinds {
		set[k] = true
		names[i] = k.String()
	}
	return Decision{
		Label:  "kind_is(" + strings.Join(names, ",") + ")",
		Accept: func(op *opgraph.Op) bool { return set[op.Kind()] },
	}
}

// InputCount accepts ops with exactly n input slots.
func InputCount(n int) Decision {
	return Decision{
		Label:  fmt.Sprintf("input_count(%d)", n),
		Accept: func(op *opgraph.Op) bool { return op.NumInputs() == n },
	}
}

// OutputCount accepts ops with exactly n output slots.
func OutputCount(n int) Decision {
	return Decision{
		Label:  fmt.Sprintf("output_count(%d)", n),
		Accept: func(op *opgraph.Op) bool { return op.NumOutputs() == n },
	}
}

// HasAttr accepts ops carrying the attribute key.
func HasAttr(key string) Decision {
	return Decision{
		Label:  fmt.Sprintf("has_attr(%q)", key),
		Accept: func(op *opgraph.Op) bool { return op.HasAttr(key) },
	}
}

// AttrIntGreater accepts ops whose integer attribute key is present and
// greater than v.
func AttrIntGreater(key string, v int64) Decision {
	return Decision{
		Label: fmt.Sprintf("attr_int_greater(%q,%d)", key, v),
		Accept: func(op *opgraph.Op) bool {
			got, ok := op.AttrInt(key)
			return ok && got > v
		},
	}
}

// AttrIntAtMost accepts ops whose integer attribute key is absent or at
// most v.
func AttrIntAtMost(key string, v int64) Decision {
	return Decision{
		Label: fmt.Sprintf("attr_int_at_most(%q,%d)", key, v),
		Accept: func(op *opgraph.Op) bool {
			got, ok := op.AttrInt(key)
			return !ok || got <= v
		},
	}
}

// AttrStringIs accepts ops whose string attribute key equals v.
func AttrStringIs(key, v string) Decision {
	return Decision{
		Label: fmt.Sprintf("attr_string_is(%q,%q)", key, v),
		Accept: func(op *opgraph.Op) bool {
			got, ok := op.AttrString(key)
			return ok && got == v
		},
	}
}

// Not inverts d. The result is anonymous when d is.
func Not(d Decision) Decision {
	label := ""
	if d.Label != "" {
		label = "not(" + d.Label + ")"
	}
	accept := d.Accept
	return Decision{Label: label, Accept: func(op *opgraph.Op) bool { return !accept(op) }}
}

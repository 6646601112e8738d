package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
)

// Key schema:
//
//	fill:<creator>:<nonce> → fill.Record
//	ord:<creator>:<nonce>  → order.Record (live and terminal)
//	cond:<creator>:<nonce> → conditional registration
//	meta:seq               → next book sequence number
const (
	prefixFill        = "fill:"
	prefixOrder       = "ord:"
	prefixConditional = "cond:"
	keySeq            = "meta:seq"
)

func fillKey(k order.Key) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixFill, k.Creator.Hex(), k.Nonce))
}

func orderKey(k order.Key) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, k.Creator.Hex(), k.Nonce))
}

// orderPrefix returns the prefix for all orders of a creator
// Format: "ord:{address}:"
func orderPrefix(creator common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, creator.Hex()))
}

func conditionalKey(k order.Key) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixConditional, k.Creator.Hex(), k.Nonce))
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper bound
}

package tokenizer

// specialTrie is a byte trie over special token literals.
type specialTrie struct {
	children map[byte]*specialTrie
	hasValue bool
	value    int32
}

func (n *specialTrie) Insert(key string, value int32) {
	n.insert([]byte(key), value)
}

func (n *specialTrie) insert(key []byte, value int32) {
	if len(key) == 0 {
		n.hasValue = true
		n.value = value
		return
	}

	if n.children == nil {
		n.children = make(map[byte]*specialTrie)
	}

	child, ok := n.children[key[0]]
	if !ok {
		child = &specialTrie{}
		n.children[key[0]] = child
	}
	child.insert(key[1:], value)
}

func (n *specialTrie) empty() bool {
	return len(n.children) == 0
}

// longestMatch returns the length and id of the longest special literal
// that is a prefix of text. n is 0 when nothing matches.
func (n *specialTrie) longestMatch(text []byte) (length int, id int32) {
	node := n
	for i, c := range text {
		if node = node.children[c]; node == nil {
			break
		}

		if node.hasValue {
			length, id = i+1, node.value
		}
	}

	return length, id
}

// nextMatch finds the first position at or after start where a special
// literal begins, returning the longest literal there. pos is -1 when text
// holds no special literal.
func (n *specialTrie) nextMatch(text []byte, start int) (pos, length int, id int32) {
	if n.empty() {
		return -1, 0, 0
	}

	for i := start; i < len(text); i++ {
		if _, ok := n.children[text[i]]; !ok {
			continue
		}

		if length, id := n.longestMatch(text[i:]); length > 0 {
			return i, length, id
		}
	}

	return -1, 0, 0
}

package mainthreadio

// ValueIterator iterates over the values emitted for one key.
// Values arrive in the order they were read from the shuffle bins, which is
// mapper order and, within a mapper, emission order.
type ValueIterator struct {
	values <-chan string
}

// Iter iterates over all the values in the iterator.
func (v *ValueIterator) Iter() <-chan string {
	return v.values
}

// Collect drains the iterator into a slice, preserving order.
func (v *ValueIterator) Collect() []string {
	out := make([]string, 0)
	for value := range v.values {
		out = append(out, value)
	}
	return out
}

// NewValueIterator wraps a channel of values. The producer must close c.
func NewValueIterator(c <-chan string) ValueIterator {
	return ValueIterator{
		values: c,
	}
}

// Mapper defines the interface for a Map task.
// A returned error fails only the record being mapped.
type Mapper interface {
	Map(key, value string, emitter Emitter) error
}

// Reducer defines the interface for a Reduce task.
// A returned error fails only the key being reduced.
type Reducer interface {
	Reduce(key string, values ValueIterator, emitter Emitter) error
}

// keyValue is used to store intermediate shuffle data as key-value pairs
type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

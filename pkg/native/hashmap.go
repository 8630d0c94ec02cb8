package native

// HashMap represents a java.util.HashMap. Keys must already be normalized
// by the caller so that Go equality matches Java equals: strings by
// content, boxed integers by value, everything else by identity.
type HashMap struct {
	data map[any]any
}

// NewHashMap creates an empty HashMap.
func NewHashMap() *HashMap {
	return &HashMap{data: make(map[any]any)}
}

// Get returns the value for key, or nil.
func (m *HashMap) Get(key any) any {
	return m.data[key]
}

// Put stores a key-value pair and returns the previous value, or nil.
func (m *HashMap) Put(key, value any) any {
	old := m.data[key]
	m.data[key] = value
	return old
}

// ContainsKey reports whether key is present.
func (m *HashMap) ContainsKey(key any) bool {
	_, ok := m.data[key]
	return ok
}

// Remove deletes key and returns its previous value, or nil.
func (m *HashMap) Remove(key any) any {
	old := m.data[key]
	delete(m.data, key)
	return old
}

// Size returns the number of entries.
func (m *HashMap) Size() int32 {
	return int32(len(m.data))
}

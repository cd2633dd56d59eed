package fixture

import (
	"fmt"
	"maps"
)

// Node is one resolved fixture in a Graph.
type Node struct {
	ID         int
	Key        string
	Table      string
	Alias      string
	Descriptor *Descriptor

	// direct is true when the alias came from a caller rather than from a
	// dependent's declaration.
	direct bool
}

// Graph holds resolved fixtures in load order. Dependencies always precede
// their dependents and no two nodes share a resource key or an alias.
// A Graph is not safe for concurrent use.
type Graph struct {
	nodes   []Node
	byKey   map[string]int
	byAlias map[string]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byKey:   make(map[string]int),
		byAlias: make(map[string]int),
	}
}

// frame is one entry of the explicit resolution stack.
type frame struct {
	desc   *Descriptor
	alias  string
	direct bool
	next   int
}

// Add resolves decl and its transitive dependencies into the graph. An empty
// alias selects the descriptor's default alias. The graph is unchanged when
// Add returns an error.
func (g *Graph) Add(decl Declaration, alias string) error {
	work := g.clone()
	if err := work.add(decl, alias); err != nil {
		return err
	}
	*g = *work
	return nil
}

// AddAll adds each declaration with its default alias.
func (g *Graph) AddAll(decls []Declaration) error {
	work := g.clone()
	for _, d := range decls {
		if err := work.add(d, ""); err != nil {
			return err
		}
	}
	*g = *work
	return nil
}

func (g *Graph) add(decl Declaration, alias string) error {
	if key := decl.key(); key != "" {
		if id, ok := g.byKey[key]; ok {
			if alias == "" {
				alias = g.nodes[id].Descriptor.DefaultAlias()
			}
			return g.realias(id, alias, true)
		}
	}

	root, err := decl.resolve()
	if err != nil {
		return err
	}
	if id, ok := g.byKey[root.ResourceKey]; ok {
		if alias == "" {
			alias = root.DefaultAlias()
		}
		return g.realias(id, alias, true)
	}
	if alias == "" {
		alias = root.DefaultAlias()
	}

	stack := []*frame{{desc: root, alias: alias, direct: true}}
	resolving := map[string]bool{root.ResourceKey: true}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if top.next < len(top.desc.Dependencies) {
			dep := top.desc.Dependencies[top.next]
			top.next++

			if err := g.enter(dep, &stack, resolving); err != nil {
				return err
			}
			continue
		}

		stack = stack[:len(stack)-1]
		delete(resolving, top.desc.ResourceKey)
		if err := g.insert(top); err != nil {
			return err
		}
	}
	return nil
}

// enter pushes dep onto the stack unless it is already resolved, in which
// case only its alias is considered.
func (g *Graph) enter(dep Dependency, stack *[]*frame, resolving map[string]bool) error {
	key := dep.key()
	if key == "" {
		desc, err := dep.resolve()
		if err != nil {
			return err
		}
		dep.Declaration = Declare(desc)
		key = desc.ResourceKey
	}

	if resolving[key] {
		cycle := make([]string, 0, len(*stack)+1)
		for _, f := range *stack {
			cycle = append(cycle, f.desc.ResourceKey)
		}
		return &CircularDependencyError{Cycle: append(cycle, key)}
	}

	if id, ok := g.byKey[key]; ok {
		alias := dep.Alias
		if alias == "" {
			alias = g.nodes[id].Descriptor.DefaultAlias()
		}
		return g.realias(id, alias, false)
	}

	desc, err := dep.resolve()
	if err != nil {
		return err
	}
	alias := dep.Alias
	if alias == "" {
		alias = desc.DefaultAlias()
	}
	*stack = append(*stack, &frame{desc: desc, alias: alias})
	resolving[key] = true
	return nil
}

func (g *Graph) insert(f *frame) error {
	if owner, ok := g.byAlias[f.alias]; ok {
		return fmt.Errorf("%w: %q is used by %s, wanted by %s",
			ErrAliasConflict, f.alias, g.nodes[owner].Key, f.desc.ResourceKey)
	}
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{
		ID:         id,
		Key:        f.desc.ResourceKey,
		Table:      f.desc.TableName(),
		Alias:      f.alias,
		Descriptor: f.desc,
		direct:     f.direct,
	})
	g.byKey[f.desc.ResourceKey] = id
	g.byAlias[f.alias] = id
	return nil
}

// realias applies alias precedence: a direct alias replaces an inherited
// one, an inherited alias never replaces a direct one, and at equal
// precedence the most recent alias wins.
func (g *Graph) realias(id int, alias string, direct bool) error {
	n := &g.nodes[id]
	if n.direct && !direct {
		return nil
	}
	if n.Alias == alias {
		n.direct = n.direct || direct
		return nil
	}
	if owner, ok := g.byAlias[alias]; ok && owner != id {
		return fmt.Errorf("%w: %q is used by %s, wanted by %s",
			ErrAliasConflict, alias, g.nodes[owner].Key, n.Key)
	}
	delete(g.byAlias, n.Alias)
	n.Alias = alias
	n.direct = direct
	g.byAlias[alias] = id
	return nil
}

func (g *Graph) clone() *Graph {
	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)
	c := &Graph{
		nodes:   nodes,
		byKey:   maps.Clone(g.byKey),
		byAlias: maps.Clone(g.byAlias),
	}
	if c.byKey == nil {
		c.byKey = make(map[string]int)
	}
	if c.byAlias == nil {
		c.byAlias = make(map[string]int)
	}
	return c
}

// Nodes returns the nodes in load order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Aliases returns node aliases in load order.
func (g *Graph) Aliases() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Alias
	}
	return out
}

// Tables returns table names in load order.
func (g *Graph) Tables() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Table
	}
	return out
}

// Lookup returns the node with the given alias.
func (g *Graph) Lookup(alias string) (Node, bool) {
	id, ok := g.byAlias[alias]
	if !ok {
		return Node{}, false
	}
	return g.nodes[id], true
}

// ByKey returns the node with the given resource key.
func (g *Graph) ByKey(key string) (Node, bool) {
	id, ok := g.byKey[key]
	if !ok {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Clear removes every node.
func (g *Graph) Clear() {
	g.nodes = nil
	clear(g.byKey)
	clear(g.byAlias)
}

package topology

import "testing"

const sampleTopology = `
name: mylab
topology:
  kinds:
    srl:
      image: ghcr.io/nokia/srlinux
  nodes:
    spine1:
      kind: srl
      image: ghcr.io/nokia/srlinux:23.10
    leaf1:
      kind: linux
    leaf2:
      kind: linux
  links:
    - endpoints: ["spine1:e1-1", "leaf1:eth1"]
    - endpoints: ["spine1:e1-2", "leaf2:eth1"]
    - endpoints: ["spine1:e1-3", "leaf1:eth2"]
`

func TestParseNodesAndLinks(t *testing.T) {
	p := NewParser(nil)
	nodes, links, err := p.Parse(sampleTopology, "mylab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}

	var spine *Node
	for i := range nodes {
		if nodes[i].Label == "spine1" {
			spine = &nodes[i]
		}
	}
	if spine == nil {
		t.Fatal("spine1 node not found")
	}
	if spine.ID != "mylab/spine1" {
		t.Fatalf("expected lab-prefixed id, got %s", spine.ID)
	}
	if spine.Type != NodeRouter {
		t.Fatalf("expected srl kind to map to router, got %s", spine.Type)
	}
	if spine.Platform != "srlinux" {
		t.Fatalf("expected srlinux platform, got %s", spine.Platform)
	}
}

func TestParseUnmappedKindDefaultsToHost(t *testing.T) {
	p := NewParser(nil)
	yamlContent := `
topology:
  nodes:
    mystery:
      kind: something-unknown
  links: []
`
	nodes, _, err := p.Parse(yamlContent, "lab1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Type != NodeHost {
		t.Fatalf("expected unmapped kind to default to host, got %+v", nodes)
	}
}

func TestParseSkipsMalformedEndpoints(t *testing.T) {
	p := NewParser(nil)
	yamlContent := `
topology:
  nodes:
    a: {kind: linux}
    b: {kind: linux}
  links:
    - endpoints: ["a:eth0", "b"]
    - endpoints: ["a:eth1", "b:eth1"]
`
	_, links, err := p.Parse(yamlContent, "lab1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 valid link after skipping malformed one, got %d", len(links))
	}
}

func TestParseParallelLinksGetOrdinalSuffix(t *testing.T) {
	p := NewParser(nil)
	yamlContent := `
topology:
  nodes:
    a: {kind: linux}
    b: {kind: linux}
  links:
    - endpoints: ["a:eth0", "b:eth0"]
    - endpoints: ["a:eth1", "b:eth1"]
    - endpoints: ["a:eth2", "b:eth2"]
`
	_, links, err := p.Parse(yamlContent, "lab1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}
	want := map[string]bool{"lab1/a-b": false, "lab1/a-b-1": false, "lab1/a-b-2": false}
	for _, l := range links {
		if _, ok := want[l.ID]; !ok {
			t.Fatalf("unexpected link id %s", l.ID)
		}
		want[l.ID] = true
	}
	for id, seen := range want {
		if !seen {
			t.Fatalf("expected link id %s to be produced", id)
		}
	}
}

func TestParseMissingTopologySection(t *testing.T) {
	p := NewParser(nil)
	if _, _, err := p.Parse("foo: bar", "lab1"); err == nil {
		t.Fatal("expected error for missing topology section")
	}
}

func TestParseWrapperExtractsContainerlabYAML(t *testing.T) {
	p := NewParser(nil)
	wrapper := `
metadata:
  name: mylab
  namespace: clab-ns
spec:
  definition:
    containerlab: |
      topology:
        nodes:
          a: {kind: linux}
        links: []
`
	name, ns, inner, err := p.ParseWrapper(wrapper, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "mylab" || ns != "clab-ns" {
		t.Fatalf("got name=%s ns=%s", name, ns)
	}
	if _, _, err := p.Parse(inner, name); err != nil {
		t.Fatalf("extracted inner yaml did not parse: %v", err)
	}
}

func TestParseWrapperOverridesWinOverMetadata(t *testing.T) {
	p := NewParser(nil)
	wrapper := `
metadata:
  name: original
  namespace: orig-ns
spec:
  definition:
    containerlab: |
      topology:
        nodes: {}
        links: []
`
	name, ns, _, err := p.ParseWrapper(wrapper, "override-name", "override-ns")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "override-name" || ns != "override-ns" {
		t.Fatalf("expected overrides to win, got name=%s ns=%s", name, ns)
	}
}

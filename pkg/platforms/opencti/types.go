package opencti

import "github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"

const nodeFields = `
	id
	entity_type
	representative { main }
	... on StixCyberObservable { observable_value x_opencti_score }
	... on IntrusionSet { name aliases }
	... on ThreatActor { name aliases }
	... on Malware { name aliases }
	... on Campaign { name aliases }
	... on Tool { name aliases }
	... on AttackPattern { name aliases x_mitre_id }
	... on Vulnerability { name }
`

const aboutQuery = `query About { about { version } me { name user_email } }`

const searchQuery = `query Search($search: String, $first: Int) {
	stixCoreObjects(search: $search, first: $first) {
		edges { node {` + nodeFields + `} }
		pageInfo { hasNextPage endCursor }
	}
}`

const entityQuery = `query Entity($id: String!) {
	stixCoreObject(id: $id) {` + nodeFields + `}
}`

const listQuery = `query List($types: [String], $first: Int, $after: ID) {
	stixCoreObjects(types: $types, first: $first, after: $after) {
		edges { node {` + nodeFields + `} }
		pageInfo { hasNextPage endCursor }
	}
}`

type connection struct {
	Edges []struct {
		Node node `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

func (c connection) entities() []*platforms.Entity {
	out := make([]*platforms.Entity, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node.entity())
	}
	return out
}

type node struct {
	ID             string   `json:"id"`
	EntityType     string   `json:"entity_type"`
	Name           string   `json:"name"`
	Aliases        []string `json:"aliases"`
	ObservableVal  string   `json:"observable_value"`
	Score          *int     `json:"x_opencti_score"`
	MitreID        string   `json:"x_mitre_id"`
	Representative struct {
		Main string `json:"main"`
	} `json:"representative"`
}

func (n node) entity() *platforms.Entity {
	e := &platforms.Entity{
		ID:         n.ID,
		EntityType: n.EntityType,
		Name:       n.Name,
		Value:      n.ObservableVal,
		Aliases:    n.Aliases,
		Data:       map[string]interface{}{},
	}
	if e.Name == "" && e.Value == "" {
		e.Name = n.Representative.Main
	}
	if n.MitreID != "" {
		e.Aliases = append(e.Aliases, n.MitreID)
		e.Data["x_mitre_id"] = n.MitreID
	}
	if n.Score != nil {
		e.Data["score"] = *n.Score
	}
	return e
}

// Package fixture provides the fixture-table graph and the runtime objects
// that populate and truncate fixture tables.
//
// A fixture is described by a [Descriptor]: a resource key, the table it
// fills, a [DataSource] for its rows and the fixtures it depends on. A
// [Graph] resolves declarations into a load order in which every dependency
// precedes its dependents, detects dependency cycles and assigns each node
// a unique alias.
//
// # Usage
//
//	countries := &fixture.Descriptor{ResourceKey: "CountriesFixture", Table: "countries"}
//	users := &fixture.Descriptor{
//	    ResourceKey: "UsersFixture",
//	    Table:       "users",
//	    Dependencies: []fixture.Dependency{
//	        {Alias: "country", Declaration: fixture.Declare(countries)},
//	    },
//	}
//
//	g := fixture.NewGraph()
//	if err := g.Add(fixture.Declare(users), ""); err != nil {
//	    return err
//	}
//	// g.Nodes() is [CountriesFixture, UsersFixture]
//	// g.Aliases() is ["country", "UsersFixture"]
//
// Fixtures can also be declared in a TOML manifest and looked up through a
// [Registry]:
//
//	[[fixture]]
//	key = "UsersFixture"
//	table = "users"
//	data = "data/users.yaml"
//	depends = [{ key = "CountriesFixture", alias = "country" }]
//
// # Row references
//
// A string column value of the form "@alias.row.column" is replaced at load
// time by the column of an already loaded row. "@@" escapes a literal "@".
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package fixture

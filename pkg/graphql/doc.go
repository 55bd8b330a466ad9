// Package graphql parses GraphQL SDL schemas and executes operations against
// them.
//
// The engine is built on gqlparser: documents are parsed and validated with
// its parser and validator, and execution walks the resulting AST. Fields are
// resolved by Resolver functions keyed by "Type.field". Fields without a
// resolver read from the parent value, which may be a map or a struct.
//
// Basic usage:
//
//	schema, err := graphql.ParseSchema(`
//	    type Query { hello: String }
//	    type Subscription { messageAdded(channel: String!): Message }
//	    type Message { id: ID! text: String! }
//	`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	exec := graphql.NewExecutor(schema, graphql.WithResolver("Query.hello",
//	    func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
//	        return "world", nil
//	    }))
//
//	resp := exec.Execute(ctx, &graphql.GraphQLRequest{Query: "{ hello }"}, nil)
//
// Root fields of the Subscription type resolve to the root value when it has
// no entry under the field name. This lets a published payload such as
// {"id": "1", "text": "hi"} be executed directly against a subscription
// document selecting messageAdded { id text }.
//
// Static resolvers can be declared in configuration and turned into
// Resolver functions with StaticResolvers. Their responses support
// {{args.name}} templates.
package graphql

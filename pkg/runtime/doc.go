/*
Package runtime abstracts the container runtime's control surface behind
the Runtime interface: build an image, start/stop/remove an instance, query
what actually exists. The orchestrator consumes only the interface; tests
substitute a fake.

The concrete adapter, DockerRuntime, shells out to the docker CLI rather
than using a client library. That is a deliberate design requirement, not a
shortcut: every command issued is echoed verbatim to the operator before it
runs, so any action wharf takes can be reproduced, inspected or interrupted
by hand with the same tools the operator already knows.

Managed containers and images carry three labels:

	io.wharf.managed   marks the object as under wharf's control
	io.wharf.service   the owning service spec
	io.wharf.identity  the content identity the image was built from

The identity label is how a later invocation decides whether a running
instance is stale without any local state beyond the configuration itself.
*/
package runtime

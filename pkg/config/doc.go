/*
Package config loads and validates the fleet configuration file.

The fleet file is YAML: a list of service entries with build context,
dependencies, port and volume bindings, environment, and an optional health
check descriptor. Validation happens entirely at load time; by the time a
Fleet is returned, every referenced path exists, every dependency names a
declared service, and every health check is well formed. Operations never
see a half-valid configuration.

Loading also assigns each spec its content identity: a BLAKE3 fingerprint
over the run-relevant spec fields and the full build context directory.
The identity travels with built images as a label, which is how a later
invocation detects that a running instance is stale.
*/
package config

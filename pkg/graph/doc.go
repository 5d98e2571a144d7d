/*
Package graph computes dependency ordering over the fleet's service specs.

The graph is derived from each ServiceSpec's DependsOn declarations and is
never stored: it is rebuilt from configuration at the start of every
operation. A depth-first topological sort produces the start order
(dependencies strictly before dependents); its reverse is the stop order.
Ties between independent services are broken by declaration order so output
is reproducible across runs.

Cycles are configuration errors and surface as CycleError, naming the
members of the cycle, before any mutation happens.
*/
package graph

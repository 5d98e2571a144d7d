// Package updates answers "do my images need rebuilding?" for images
// whose staleness the build context cannot reveal, typically OS packages
// installed during the build. Each service may declare an update check
// command; the checker runs it in a throwaway container of the current
// image and treats any output as a pending update, the same convention
// tools like apt-get -s upgrade follow.
//
// With auto-upgrade enabled the checker hands the pending services to the
// orchestrator for a forced rebuild, so upgrades flow through the same
// health-verified replacement path as ordinary changes.
package updates

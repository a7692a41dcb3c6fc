// Package runconf reads the INI files that describe where and how cases run:
// the per-case run.cfg with its resource sections, and the installation
// configuration naming the current resource and batch system.
//
// Section names are case-insensitive. Resource sections may be qualified by
// run id or by tag, e.g. `[cluster/run_id=mesh_fine]` or `[cluster/tag=slow]`.
package runconf

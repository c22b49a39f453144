/*
	Package ngshow provides the logging, version, and small coordinate helpers shared by
	all other ngshow packages.  It has no dependencies on the rest of the module so
	volume sources, stores, and the viewer can all use it.
*/
package ngshow

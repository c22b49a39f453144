/*
	Package layer turns arrays into viewer layers.

	A single array becomes a volume.LocalVolume.  A list of arrays holding the same data
	at different resolutions becomes a pyramid.Pyramid of LocalVolumes.  Coordinate
	spaces, voxel offsets and shaders are derived from the arrays.
*/
package layer

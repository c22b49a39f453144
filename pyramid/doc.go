/*
	Package pyramid composes several fixed-resolution copies of one volume into a single
	volume.Source that can be queried at any integral downsampling level.

	Each copy is tagged with a ScaleKey: its voxel size divided by the finest voxel size
	along every axis.  A query at a requested key is forwarded to the copy needing the
	least additional downsampling in its worst axis, together with the residual factors
	that copy has to apply itself.  Exactly one copy, the reference, has the identity key
	and supplies all resolution-independent metadata.

	A Pyramid is immutable after New and safe for concurrent use.
*/
package pyramid

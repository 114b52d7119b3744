// Package diagram holds the data model shared by the interpretation engine:
// images, spatial fingerprints, foci, node identities, per-step
// interpretations, and the final Result.
//
// Spatial coordinates use the oracle's normalized space: bounding boxes are
// [ymin, xmin, ymax, xmax] with each value in 0..1000 regardless of the
// image's pixel dimensions.
package diagram

package tree_test

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/tree"
)

func Test(t *testing.T) { TestingT(t) }

type treeSuite struct{}

var _ = Suite(&treeSuite{})

func (s *treeSuite) TestPushDirAllCreatesParents(c *C) {
	root := tree.NewRoot()
	dir, err := root.PushDirAll("usr/share/doc", root.ModTime)
	c.Assert(err, IsNil)
	c.Check(dir.Name, Equals, "doc")
	c.Check(root.Lookup("usr/share"), NotNil)
}

func (s *treeSuite) TestInsertRejectsDuplicate(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("a/b", &tree.Node{Kind: tree.File}), IsNil)
	err := root.Insert("a/b", &tree.Node{Kind: tree.File})
	c.Assert(err, ErrorMatches, `tree: "a/b" already exists`)
	var want *tree.ErrDuplicatedFileName
	c.Assert(err, FitsTypeOf, want)
}

func (s *treeSuite) TestInsertRejectsNonDirectoryParent(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("a", &tree.Node{Kind: tree.File}), IsNil)
	err := root.Insert("a/b", &tree.Node{Kind: tree.File})
	c.Assert(err, NotNil)
	var want *tree.ErrNotADirectory
	c.Assert(err, FitsTypeOf, want)
}

func (s *treeSuite) TestInsertRejectsRoot(c *C) {
	root := tree.NewRoot()
	err := root.Insert(".", &tree.Node{Kind: tree.File})
	var want *tree.ErrInvalidFilePath
	c.Assert(err, FitsTypeOf, want)
}

func (s *treeSuite) TestWalkOrderIsSortedByName(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("b", &tree.Node{Kind: tree.File}), IsNil)
	c.Assert(root.Insert("a", &tree.Node{Kind: tree.File}), IsNil)
	c.Assert(root.Insert("c", &tree.Node{Kind: tree.File}), IsNil)

	var order []string
	c.Assert(root.Walk(func(p string, n *tree.Node) error {
		if p != "" {
			order = append(order, p)
		}
		return nil
	}), IsNil)
	c.Check(order, DeepEquals, []string{"a", "b", "c"})
}

func (s *treeSuite) TestLookupMissing(c *C) {
	root := tree.NewRoot()
	c.Check(root.Lookup("nope"), IsNil)
}
